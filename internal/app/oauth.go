package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// DriveAuth runs a short-lived local server that walks the user through the
// Google consent screen and hands back the refresh token needed by the
// gdrive provider.
type DriveAuth struct {
	config *oauth2.Config
	logger Logger
	state  string
	server *http.Server
	tokens chan *oauth2.Token
}

func NewDriveAuth(logger Logger, clientSecretPath, redirectURL string) (*DriveAuth, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}

	return &DriveAuth{
		config: cfg,
		logger: logger,
		state:  uuid.NewString(),
		tokens: make(chan *oauth2.Token, 1),
	}, nil
}

func (a *DriveAuth) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		authURL := a.config.AuthCodeURL(a.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != a.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := a.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "No refresh token returned. Revoke app access and authorize again.")
			return
		}

		tokenJSON, err := json.MarshalIndent(token, "", "  ")
		if err != nil {
			http.Error(w, "failed to marshal token", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Refresh token:\n%s\n\nSet it as refresh_token on the gdrive provider.\n\nFull token:\n%s", token.RefreshToken, tokenJSON)

		select {
		case a.tokens <- token:
		default:
		}
	})

	return mux
}

// Start serves the consent flow on addr in the background.
func (a *DriveAuth) Start(addr string) {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Infof("Google Drive OAuth server listening on %s, open http://%s/auth/google/drive", addr, addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("OAuth server error: %v", err)
		}
	}()
}

// Wait blocks until a token with a refresh token arrives or ctx ends.
func (a *DriveAuth) Wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case token := <-a.tokens:
		return token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *DriveAuth) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	a.logger.Infof("OAuth server stopped")
	return nil
}
