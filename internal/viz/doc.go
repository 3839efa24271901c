// Package viz is the interactive terminal view of a control loop.
//
// [Model] is a Bubble Tea model that owns the tick scheduler: while the
// engine is running each tick advances it by one step. The view plots the
// process value against the setpoint, the controller output, the PID terms
// and the performance figures.
//
// # Key Bindings
//
//	Space - Start / pause / resume
//	S     - Single step
//	R     - Reset (applies dead time and dt changes)
//	P     - Trigger a disturbance pulse
//	C     - Cycle controller variant
//	Tab   - Select tunable
//	Up/K  - Increase selected tunable
//	Down/J- Decrease selected tunable
//	W     - Toggle plot window (all / last N samples)
//	T     - Cycle color themes
//	?     - Show help overlay
//	Q     - Quit
package viz
