// Package engine adapts wazero into the sandbox's capsule capability.
//
// The engine compiles attested bytecode and decides which capsule flavour
// the module is:
//
//	Flavour    Recognised by          Run semantics
//	─────────────────────────────────────────────────────────────────
//	function   export "run", no args  one live instance, state persists
//	command    export "_start"        fresh WASI instance per run, stdout is the result
//
// # Result Types
//
// A function capsule's result is typed by a custom section named
// "sandbox:result" holding WIT type text, or inferred from the core
// signature when the section is absent:
//
//	Core results      Inferred     Declarable
//	──────────────────────────────────────────────────────────
//	(none)            unit         -
//	i32               s32          bool, u8, u16, u32, s8, s16, s32, char
//	i64               s64          u64, s64
//	f32               f32          f32
//	f64               f64          f64
//	i32 i32           -            string (ptr, len into exported "memory")
//
// # Host Bindings
//
// With Config.HostBindings the engine provides a host module named
// "sandbox":
//
//	log(ptr i32, len i32)
//	now_ms() i64
//	sleep_ms(ms i64)
//	random_u32() i32
//	sensor_read(category i32, out i32) i32
//
// sleep_ms is the only point where a guest suspends. It honours the run's
// context, so an execution deadline interrupts it.
//
// # Deadlines
//
// Config.ExecutionTimeout bounds every run. wazero closes a module whose
// context expires; a function capsule closed this way is instantiated
// again on its next run, starting from fresh guest state.
package engine
