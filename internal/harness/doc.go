// Package harness runs behavioural scenarios against the to-do application.
//
// A scenario resets the application's persisted state, then issues ordered
// user actions and assertions through a browser page. Each assertion polls
// the live document until it holds or its timeout elapses. The first failing
// step stops the scenario; later steps are reported as skipped.
//
// # Scenario Format
//
// Scenarios are YAML files checked against an embedded CUE schema, then
// decoded strictly (unknown fields are errors):
//
//	name: add_single_task
//	description: "Adding a task shows it under its generated id"
//	timeout: 5s
//	steps:
//	  - action: fill
//	    target: { id: new-task }
//	    value: Write test plan
//	  - action: assert
//	    target: { id: new-task }
//	    expect: { value: Write test plan }
//	  - action: click
//	    target: { xpath: '//*[@class="material-icons"][normalize-space()="add"]', nth: 0 }
//	    effect: create
//	  - action: navigate
//	    tab: todo
//	  - action: assert
//	    target: { task: 1 }
//	    expect: { text: Write test plan }
//
// # Actions
//
//   - reset: clear storage and reload. Implicit before the first step; may
//     only appear explicitly as the first step.
//   - navigate: click the anchor for a tab (add-item, todo, completed).
//   - fill: type value into target.
//   - click: click target. effect records an identity change: create uses
//     the last filled value; toggle and delete name a task.
//   - assert: check one expectation: visible, text, contains, count, value,
//     or the page-level title and url.
//
// # Task Identity
//
// target: { task: N } addresses the Nth task created in this scenario, not
// the Nth item on screen. Ids are never reused after a delete, so deleting
// task 1 leaves task 2 addressable as task 2. A scenario that addresses a
// task before creating it is rejected when loaded.
//
// # Usage
//
//	sc, err := harness.LoadScenario("scenarios/add.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h, err := harness.New(harness.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result := h.Run(ctx, page, sc)
//	if !result.Passed() {
//	    log.Printf("step %d: %s", *result.FailingStep, result.Diagnostic)
//	}
package harness
