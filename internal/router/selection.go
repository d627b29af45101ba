package router

import (
	"math/rand"
	"sync/atomic"

	"github.com/hnolan/irgateway/internal/backend"
	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// SelectBackend picks a backend name for req per the router's configured
// strategy. preferredBackend overrides the strategy only for "explicit".
// The chosen backend is guaranteed healthy with a closed/half-open
// circuit at selection time (it may still fail before the call returns).
func (r *Router) SelectBackend(req *ir.Request, preferredBackend string) (string, error) {
	healthy := r.healthyBackends()
	if len(healthy) == 0 {
		return "", gwerror.New(gwerror.KindNoBackendAvailable, "no healthy backend available")
	}

	var name string
	var err error

	switch r.cfg.RoutingStrategy {
	case StrategyModelBased:
		name, err = r.selectModelBased(req, healthy)
	case StrategyCostOptimized:
		name, err = r.selectCostOptimized(req, healthy)
	case StrategyLatencyOptimized:
		name, err = r.selectLatencyOptimized(healthy)
	case StrategyRoundRobin:
		name, err = r.selectRoundRobin(healthy)
	case StrategyRandom:
		name, err = r.selectRandom(healthy)
	case StrategyCustom:
		name, err = r.selectCustom(req, healthy)
	case StrategyExplicit, "":
		name, err = r.selectExplicit(preferredBackend, healthy)
	default:
		name, err = r.selectExplicit(preferredBackend, healthy)
	}
	if err != nil {
		return "", err
	}

	r.emit("backend:selected", map[string]any{"name": name})
	return name, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (r *Router) selectExplicit(preferred string, healthy []string) (string, error) {
	if preferred != "" && contains(healthy, preferred) {
		return preferred, nil
	}
	if r.cfg.DefaultBackend != "" && contains(healthy, r.cfg.DefaultBackend) {
		return r.cfg.DefaultBackend, nil
	}
	return healthy[0], nil
}

func (r *Router) selectModelBased(req *ir.Request, healthy []string) (string, error) {
	model := ""
	if req.Parameters != nil {
		model = req.Parameters.Model
	}
	if model != "" {
		if name, ok := r.cfg.ModelMapping[model]; ok && contains(healthy, name) {
			return name, nil
		}
		for _, pat := range r.cfg.ModelPatterns {
			if pat.Pattern.MatchString(model) && contains(healthy, pat.Backend) {
				return pat.Backend, nil
			}
		}
	}
	if r.cfg.DefaultBackend != "" && contains(healthy, r.cfg.DefaultBackend) {
		return r.cfg.DefaultBackend, nil
	}
	return healthy[0], nil
}

func (r *Router) selectCostOptimized(req *ir.Request, healthy []string) (string, error) {
	best := ""
	bestCost := -1.0
	for _, name := range healthy {
		e, _ := r.entry(name)
		estimator, ok := e.adapter.(backend.CostEstimator)
		if !ok {
			continue
		}
		cost := estimator.EstimateCost(req)
		if cost == nil {
			continue
		}
		if best == "" || *cost < bestCost {
			best = name
			bestCost = *cost
		}
	}
	if best == "" {
		return healthy[0], nil
	}
	return best, nil
}

func (r *Router) selectLatencyOptimized(healthy []string) (string, error) {
	best := healthy[0]
	bestP95 := -1.0
	for _, name := range healthy {
		e, _ := r.entry(name)
		info := e.snapshot(name)
		if bestP95 < 0 || (info.Stats.P95LatencyMs > 0 && info.Stats.P95LatencyMs < bestP95) {
			best = name
			bestP95 = info.Stats.P95LatencyMs
		}
	}
	return best, nil
}

func (r *Router) selectRoundRobin(healthy []string) (string, error) {
	n := atomic.AddUint64(&r.rr, 1)
	return healthy[int(n-1)%len(healthy)], nil
}

func (r *Router) selectRandom(healthy []string) (string, error) {
	return healthy[rand.Intn(len(healthy))], nil
}

func (r *Router) selectCustom(req *ir.Request, healthy []string) (string, error) {
	if r.cfg.CustomSelect == nil {
		return "", gwerror.New(gwerror.KindRoutingFailed, "custom routing strategy configured with no CustomSelect function")
	}
	name, err := r.cfg.CustomSelect(req, healthy)
	if err != nil {
		return "", gwerror.Wrap(gwerror.KindRoutingFailed, "custom routing function failed", err)
	}
	if !contains(healthy, name) {
		return "", gwerror.New(gwerror.KindRoutingFailed, "custom routing function selected an unavailable backend")
	}
	return name, nil
}
