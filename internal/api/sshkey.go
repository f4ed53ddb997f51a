package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/sshkey"
)

// SSHKeyHandler exposes the daemon's own SSH public key (spec.md §4.8),
// generating the keypair on first access if it does not already exist.
type SSHKeyHandler struct {
	keyPath string
	logger  *zap.Logger
}

// NewSSHKeyHandler creates an SSHKeyHandler.
func NewSSHKeyHandler(keyPath string, logger *zap.Logger) *SSHKeyHandler {
	return &SSHKeyHandler{keyPath: keyPath, logger: logger.Named("sshkey_handler")}
}

// JSON handles GET /api/ssh-key.
func (h *SSHKeyHandler) JSON(w http.ResponseWriter, r *http.Request) {
	pub, err := sshkey.PublicKey(h.keyPath)
	if err != nil {
		h.logger.Error("failed to load ssh key", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"public_key": pub})
}

// Raw handles GET /api/ssh-key/raw.
func (h *SSHKeyHandler) Raw(w http.ResponseWriter, r *http.Request) {
	pub, err := sshkey.PublicKey(h.keyPath)
	if err != nil {
		h.logger.Error("failed to load ssh key", zap.Error(err))
		ErrInternal(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(pub))
}
