// Package simulator assembles the endpoint registry, scenario store, session
// scheduler, statistics and listener dispatch behind one [Facade].
//
//	sim := simulator.New(simulator.Options{MaxActiveSessions: 200})
//	defer sim.Quit(10 * time.Second)
//	_, _ = sim.CreateLocalEndpoint("sut", "http", []string{"http"}, map[string]string{"address": "http://localhost:8080"})
//	_, _ = sim.Load(scenarioText, "")
//	_ = sim.RampUpSessionRate(0, 50, time.Minute)
//	sim.StartGeneratingSessions()
//
// [Simulator.Apply] performs the same setup from a loaded configuration.
package simulator
