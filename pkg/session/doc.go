/*
Package session hosts long-lived machines for many conversations.

A Manager keeps one machine per session ID in memory, restores it from a
ports.StepStore on first use and persists every step it emits. Access to a
session is serialized in-process with reference-counted mutexes and, when a
ports.DistributedLocker is configured, across replicas.
*/
package session
