// Package router dispatches tasks to a roster of search agents.
//
// Every task is shown to the model together with the roster. The model
// either names an existing agent, which gets the task appended and is run,
// or leaves the name empty, in which case a new agent is described by the
// model, built by the injected EngineFactory, registered and run.
//
// The routing flow is a hierarchical state machine:
//
//	Await --Route--> Route/Select --Dispatch--> Route/CreateAgent | Route/AssignAgent
//	Route --Finish--> Await
//
// Agent names are unique. A Router is constructed explicitly; there is no
// package-level instance.
package router
