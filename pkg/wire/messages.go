package wire

// Message type tags (§6). field_names below are bit-exact with the spec;
// file_id and info_hash are synonyms for the same content identifier.
const (
	TypeRegister      = "REGISTER"
	TypeQuery         = "QUERY"
	TypeUnregister    = "UNREGISTER"
	TypeSearchByName  = "SEARCH_BY_NAME"
	TypeAnnounce      = "ANNOUNCE"
	TypeChunkRequest  = "CHUNK_REQUEST"
	TypeChunkResponse = "CHUNK_RESPONSE"
)

// Announce event names (§4.2, §6).
const (
	EventStarted   = "started"
	EventStopped   = "stopped"
	EventCompleted = "completed"
)

// Status strings used in tracker and peer replies (§6, §7).
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// Envelope carries only the discriminant every inbound message needs before
// it is re-decoded into its concrete type. Peer-to-tracker and peer-to-peer
// handlers read the type first, then unmarshal the full frame a second time
// into the matching struct below.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterMessage is peer→tracker REGISTER (§4.2, §6).
type RegisterMessage struct {
	Type      string `json:"type"`
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
	PeerID    string `json:"peer_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// QueryMessage is peer→tracker QUERY (§4.2, §6).
type QueryMessage struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

// UnregisterMessage is peer→tracker UNREGISTER (§4.2, §6).
type UnregisterMessage struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
	PeerID string `json:"peer_id"`
}

// SearchByNameMessage is peer→tracker SEARCH_BY_NAME (§4.2, §6).
type SearchByNameMessage struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// AnnounceMessage is peer→tracker ANNOUNCE (§4.2, §6). Host, Port, Filename,
// and NumChunks are only required for the "started" event.
type AnnounceMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	InfoHash  string `json:"info_hash"`
	PeerID    string `json:"peer_id"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Filename  string `json:"filename,omitempty"`
	NumChunks int    `json:"num_chunks,omitempty"`
}

// PeerInfo is one entry of a tracker record's peer list (§3, §6).
type PeerInfo struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	PeerID string `json:"peer_id"`
}

// TrackerReply is the tracker's reply to REGISTER, QUERY, UNREGISTER, and
// ANNOUNCE. Not every field is populated for every request type; a reader
// should look at Status and the fields relevant to the request it sent.
type TrackerReply struct {
	Status    string     `json:"status"`
	FileID    string     `json:"file_id,omitempty"`
	Filename  string     `json:"filename,omitempty"`
	NumChunks int        `json:"num_chunks,omitempty"`
	Peers     []PeerInfo `json:"peers,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// SearchResult is one matching record returned by SEARCH_BY_NAME.
type SearchResult struct {
	FileID    string     `json:"file_id"`
	Filename  string     `json:"filename"`
	NumChunks int        `json:"num_chunks"`
	Peers     []PeerInfo `json:"peers"`
}

// SearchReply is the tracker's reply to SEARCH_BY_NAME. Per §4.2 and the
// Design Notes, an empty match list is reported as status:"error" for wire
// compatibility; callers should treat Files being empty as authoritative,
// not Status.
type SearchReply struct {
	Status string         `json:"status"`
	Files  []SearchResult `json:"files"`
}

// ChunkRequestMessage is peer→peer CHUNK_REQUEST (§4.4, §6).
type ChunkRequestMessage struct {
	Type       string `json:"type"`
	FileID     string `json:"file_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkResponseMessage is peer→peer CHUNK_RESPONSE (§4.4, §6). When Status
// is "success" this control message is immediately followed on the wire by
// ChunkSize raw bytes; when "not_found" no body follows.
type ChunkResponseMessage struct {
	Type       string `json:"type"`
	FileID     string `json:"file_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkSize  int    `json:"chunk_size"`
	Status     string `json:"status"`
}

// NewRegisterMessage builds a REGISTER message with the Type field set.
func NewRegisterMessage(fileID, filename string, numChunks int, peerID, host string, port int) *RegisterMessage {
	return &RegisterMessage{
		Type:      TypeRegister,
		FileID:    fileID,
		Filename:  filename,
		NumChunks: numChunks,
		PeerID:    peerID,
		Host:      host,
		Port:      port,
	}
}

// NewQueryMessage builds a QUERY message with the Type field set.
func NewQueryMessage(fileID string) *QueryMessage {
	return &QueryMessage{Type: TypeQuery, FileID: fileID}
}

// NewUnregisterMessage builds an UNREGISTER message with the Type field set.
func NewUnregisterMessage(fileID, peerID string) *UnregisterMessage {
	return &UnregisterMessage{Type: TypeUnregister, FileID: fileID, PeerID: peerID}
}

// NewSearchByNameMessage builds a SEARCH_BY_NAME message with the Type field set.
func NewSearchByNameMessage(filename string) *SearchByNameMessage {
	return &SearchByNameMessage{Type: TypeSearchByName, Filename: filename}
}

// NewAnnounceMessage builds an ANNOUNCE message with the Type field set.
func NewAnnounceMessage(event, infoHash, peerID string) *AnnounceMessage {
	return &AnnounceMessage{Type: TypeAnnounce, Event: event, InfoHash: infoHash, PeerID: peerID}
}

// NewChunkRequestMessage builds a CHUNK_REQUEST message with the Type field set.
func NewChunkRequestMessage(fileID string, chunkIndex int) *ChunkRequestMessage {
	return &ChunkRequestMessage{Type: TypeChunkRequest, FileID: fileID, ChunkIndex: chunkIndex}
}
