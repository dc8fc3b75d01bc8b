package core

import "sort"

// AnnounceResponse is the decoded result of an HTTP tracker announce, per
// BEP3. Peers is populated from either the dictionary model (one dict per
// peer) or the compact model (a packed byte string), both of which the
// tracker client normalizes into AnnouncePeer before returning.
type AnnounceResponse struct {
	Interval   int64           `bencode:"interval"`
	MinInterval int64          `bencode:"min interval,omitempty"`
	TrackerID  string          `bencode:"tracker id,omitempty"`
	Complete   int64           `bencode:"complete"`
	Incomplete int64           `bencode:"incomplete"`
	Peers      []*AnnouncePeer `json:"peers"`
}

// AnnouncePeer is a single peer entry returned by a tracker announce.
type AnnouncePeer struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   int64  `json:"port"`
}

// SortedPeerIDs converts a list of peers into their peer ids in ascending order.
func SortedPeerIDs(peers []*AnnouncePeer) []string {
	pids := make([]string, len(peers))
	for i := range pids {
		pids[i] = peers[i].PeerID
	}
	sort.Strings(pids)
	return pids
}
