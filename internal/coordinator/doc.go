// Package coordinator runs the coordinator side of the pipeline: the
// intake listener, the dispatcher, the aggregator and the termination
// protocol.
//
// All shared mutable state lives in a single State value constructed once
// per process and handed to every component. Components never call each
// other directly; they meet only through State and the queues.
//
// # Completion protocol
//
// A job is registered open when the dispatcher accepts it. Before sending a
// record's units the dispatcher adds their IDs to the job's outstanding set,
// and removes any unit whose send fails. After the whole input blob has been
// read the job is sealed. A job is finalized exactly once, when it is sealed
// and its outstanding set is empty, by whichever of the dispatcher (on seal)
// or the aggregator (on the last result) observes that state. A job whose
// input produced no units is finalized at seal with an empty output.
//
// # Termination
//
// A job carrying the terminate marker moves the coordinator from running to
// draining. Once the job table and the request FIFO are both empty the
// aggregator broadcasts one terminate sentinel per running worker, under the
// worker-count lock so the broadcast happens once, waits the drain delay and
// stops.
package coordinator
