// Package comm is the rank-to-rank messaging substrate of the solver.
//
// Ranks never share memory. Every transfer is launched as a non-blocking
// operation that returns a handle (*Request for point-to-point transfers,
// *Future for collectives) and is completed by an explicit Wait. Sends
// copy their payload at launch, so the caller's slice may be reused once
// the send has been waited on.
//
// Messages between one (source, destination, tag) triple are delivered in
// the order they were sent, and receives posted on that triple are
// matched in the order they were posted.
//
// Two substrates implement Communicator: World runs every rank as a
// goroutine inside one process, and package grpcnet connects one OS
// process per rank over gRPC.
//
// Collectives (IallreduceMax, Barrier, Gatherv) are built on the
// point-to-point layer and use reserved tags at or above TagReserved.
// They must be issued in the same order on every rank, with at most one
// collective in flight per communicator.
package comm
