// Package scheduler admits build requests and drives each one through a
// sandboxed build session.
//
// A fixed pool of worker slots bounds how many sessions run at once;
// requests beyond the pool wait in FIFO order. Each admitted session gets
// a private volume and a fresh sandbox, runs the stage pipeline inside
// it, and has its artifacts collected and validated before the session is
// marked terminal. A per-session deadline force-terminates sandboxes that
// outrun their budget.
//
// Typical usage:
//
//	sched := scheduler.New(cfg, scheduler.ManagerProvisioner{Manager: volumes},
//		scheduler.RuntimeLauncher{Runtime: runtime})
//
//	go sched.Run(ctx)
//
//	sess, err := sched.Submit(session.Request{
//		Token:                token,
//		SourceURL:            url,
//		RustcVersion:         "1.75.0",
//		CargoContractVersion: "4.0.0",
//	})
package scheduler
