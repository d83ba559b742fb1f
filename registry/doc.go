// Package registry holds the live capsules of a sandbox, keyed by name.
//
// A Registry owns every capsule inserted into it. Replacing or removing an
// entry closes the capsule it held, so no capsule outlives its entry.
// Observers receive lifecycle events after the change is applied:
//
//	reg := registry.New()
//	reg.Subscribe(registry.ObserverFunc(func(e registry.Event) {
//		log.Printf("%s %s", e.Type, e.Name)
//	}))
//
// Names returns a point-in-time snapshot that can be ranged over any
// number of times.
package registry
