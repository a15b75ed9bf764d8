// Package dispatch is the command execution engine. It resolves a command
// name against the registry snapshot, spawns the executable as a child
// process with the arguments passed verbatim as an argument vector, enforces
// the configured timeout, and returns a structured result for every outcome.
//
// The central correctness property is termination: a hung child never blocks
// a Dispatch call past its timeout, and no process from the child's process
// group survives Dispatch returning. Output is captured continuously through
// bounded writers so a chatty child can neither deadlock on a full pipe nor
// exhaust memory.
package dispatch
