// Package control provides the feedback controllers of the simulated loop.
//
// Every controller implements [Controller] and maps a setpoint and process
// reading to an actuator signal:
//
//   - [PID]: positional PID with derivative on measurement and anti-windup
//   - [OnOff]: two-state latch with upper, lower or two-sided hysteresis
//   - [Manual]: operator-set output, clamped to 0..100
//
// # Usage
//
//	pid := control.NewPID(2, 10, 1, 1.0, 0) // Kp, Ti, Td, dt, initial PV
//	out := pid.Compute(control.Input{Setpoint: 50, ProcessValue: pv, OutputMin: 0, OutputMax: 100})
//
// Controllers are stateful and not safe for concurrent use. [PID] also
// implements [Configurable] for live tuning.
package control
