package server

import (
	"encoding/json"
	"net/http"

	"github.com/dreamware/giga/internal/rpc"
)

// handle wires one RPC method name to its request-decode/handler-call/
// response-encode cycle, the same mux.HandleFunc-per-route shape the
// teacher's cmd/node main() uses for its own HTTP surface.
func handle[Req any](mux *http.ServeMux, method string, fn func(Req) *rpc.Envelope) {
	mux.HandleFunc("/rpc/"+method, func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeEnvelope(w, rpc.Failed(rpc.NewError(rpc.KindInternal, "decoding request: %v", err)))
				return
			}
		}
		writeEnvelope(w, fn(req))
	})
}

func writeEnvelope(w http.ResponseWriter, env *rpc.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

// Mux builds the HTTP handler for this server's full RPC surface,
// generalizing the teacher's cmd/node handleShardRequest family of
// routes to the metadata RPC methods of spec.md §4.6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	handle(mux, "Ping", s.Ping)
	handle(mux, "FlushDB", s.FlushDB)
	handle(mux, "Mknod", s.Mknod)
	handle(mux, "Mknod_Bulk", s.MknodBulk)
	handle(mux, "Mkdir", s.Mkdir)
	handle(mux, "Chmod", s.Chmod)
	handle(mux, "Chown", s.Chown)
	handle(mux, "Access", s.Access)
	handle(mux, "Renew", s.Renew)
	handle(mux, "Getattr", s.Getattr)
	handle(mux, "Readdir", s.Readdir)
	handle(mux, "ReadBitmap", s.ReadBitmap)
	handle(mux, "UpdateBitmap", s.UpdateBitmap)
	handle(mux, "CreateZeroth", s.CreateZeroth)
	handle(mux, "InsertSplit", s.InsertSplit)
	handle(mux, "ReadFile", s.ReadFile)
	handle(mux, "WriteFile", s.WriteFile)
	handle(mux, "Rename", s.Rename)
	handle(mux, "Unlink", s.Unlink)
	handle(mux, "Rmdir", s.Rmdir)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
