package api

// Session status values reported by the server.
const (
	SessionOpen      = "open"
	SessionCompleted = "completed"
)

// InitiateRequest starts a new upload session.
type InitiateRequest struct {
	Filename string `json:"filename"`
}

// InitiateResponse carries the server-assigned session identity and the
// chunk size every subsequent chunk must use.
type InitiateResponse struct {
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size"`
}

// StatusResponse reports which chunk indices the server has durably accepted.
// UploadedChunks is sorted ascending and may be empty for a fresh session.
type StatusResponse struct {
	Status         string `json:"status"`
	UploadedChunks []int  `json:"uploaded_chunks"`
}

// PutChunkResponse acknowledges a durably stored chunk.
type PutChunkResponse struct {
	Status string `json:"status"`
	Index  int    `json:"index"`
}

// CompleteRequest asks the server to assemble the artifact. TotalChunks is
// the client-computed chunk count; the server refuses assembly unless every
// index in [0, TotalChunks) has been accepted.
type CompleteRequest struct {
	TotalChunks int `json:"total_chunks"`
}

// CompleteResponse reports the assembled artifact location.
type CompleteResponse struct {
	Status    string `json:"status"`
	FinalPath string `json:"final_path"`
}

// ErrorResponse is the error body shape for all non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
