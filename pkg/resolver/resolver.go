// Package resolver computes a valid start order for an ecosystem's
// services, rejecting cyclic dependency graphs.
package resolver

import (
	"sort"

	"github.com/cuemby/pactown/pkg/pactownerr"
	"github.com/cuemby/pactown/pkg/types"
)

// Resolve topologically orders spec's services so every service appears
// after every internal service it depends on. Ties (equal depth) break
// alphabetically by name, so repeated runs produce identical traces.
//
// A depends_on entry naming a service absent from the ecosystem is a hard
// error unless it carries an explicit Endpoint, in which case it is
// treated as an external edge: no ordering constraint, but still a valid
// target for environment injection.
func Resolve(spec *types.EcosystemSpec) ([]string, error) {
	inDegree := make(map[string]int, len(spec.Services))
	dependents := make(map[string][]string) // dep name -> services that depend on it

	for name := range spec.Services {
		inDegree[name] = 0
	}

	for name, svc := range spec.Services {
		for _, dep := range svc.DependsOn {
			if dep.Endpoint != "" {
				continue // external edge: no ordering constraint
			}
			if _, ok := spec.Services[dep.Name]; !ok {
				return nil, pactownerr.UnknownDependency(dep.Name)
			}
			inDegree[name]++
			dependents[dep.Name] = append(dependents[dep.Name], name)
		}
	}

	var order []string
	for len(order) < len(spec.Services) {
		var ready []string
		for name, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break // nodes remain with positive in-degree: a cycle exists
		}
		sort.Strings(ready)

		next := ready[0]
		order = append(order, next)
		delete(inDegree, next)
		for _, dependent := range dependents[next] {
			if _, stillPending := inDegree[dependent]; stillPending {
				inDegree[dependent]--
			}
		}
	}

	if len(order) < len(spec.Services) {
		var offenders []string
		for name := range inDegree {
			offenders = append(offenders, name)
		}
		sort.Strings(offenders)
		return nil, pactownerr.CycleDetected(offenders)
	}

	return order, nil
}
