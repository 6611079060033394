// Package transport is the routing core of a node.
//
// # Overview
//
// A Transport owns every routing table of one node:
//   - the path table, one entry per destination learned from announces
//   - the announce cache, a bounded time windowed record of announce hashes
//   - the packet hashlist, suppressing duplicate inbound packets
//   - the link table, owner of every local link from request to cleanup
//   - the transit tables used when the node relays traffic for others
//
// Interfaces are attached with AddInterface and deliver inbound bytes with
// IngestInbound. Collaborators send with SubmitOutbound, open links with
// OpenLink and follow link activity through SubscribeLinkEvents.
//
// # Thread Safety
//
// Every table has its own lock, held only for the table operation. No lock
// is held while sending on an interface or while waiting for a peer.
//
// # Usage Example
//
//	tr, err := transport.New(cfg, id)
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//
//	if err := tr.AddInterface(pipe); err != nil {
//	    return err
//	}
//	h, err := tr.OpenLink(ctx, remote)
//	if err != nil {
//	    return err
//	}
//	err = h.Send([]byte("hello"))
package transport
