package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"protoguard/internal/config"
	"protoguard/internal/logging"
	"protoguard/internal/protocol"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
)

func NewGatewayCmd() *cobra.Command {
	gatewayCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Validation gateway between model output and the runtime authority",
	}
	gatewayCmd.AddCommand(newGatewayServeCmd())
	return gatewayCmd
}

func newGatewayServeCmd() *cobra.Command {
	var listen string
	var internalToken string
	var redisURL string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve validation over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Gateway.Listen = listen
			}
			if cmd.Flags().Changed("internal-token") {
				cfg.Gateway.InternalToken = internalToken
			}
			if cmd.Flags().Changed("redis-url") {
				cfg.Gateway.RedisURL = redisURL
			}

			server := newGatewayServer(cfg)
			return server.run(ctx)
		},
	}
	c.Flags().StringVar(&listen, "listen", ":8099", "listen address (overrides config)")
	c.Flags().StringVar(&internalToken, "internal-token", "", "shared token required on requests (overrides config)")
	c.Flags().StringVar(&redisURL, "redis-url", "", "redis connection URL for the verdict audit sink (overrides config)")
	return c
}

type gatewayServer struct {
	cfg       *config.Config
	validator *protocol.Validator
	redis     *redis.Client
}

func newGatewayServer(cfg *config.Config) *gatewayServer {
	return &gatewayServer{
		cfg:       cfg,
		validator: newValidatorFromConfig(cfg),
	}
}

func (s *gatewayServer) run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	if strings.TrimSpace(s.cfg.Gateway.RedisURL) != "" {
		client, err := newRedisClient(s.cfg.Gateway.RedisURL)
		if err != nil {
			return err
		}
		s.redis = client
		logger.Info("redis audit sink enabled",
			"key_prefix", s.cfg.Gateway.RedisKeyPrefix,
			"ttl_seconds", s.cfg.Gateway.RedisTTLSeconds)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Gateway.ValidatePath, s.handleValidate)
	mux.HandleFunc(s.cfg.Gateway.StreamPath, s.handleStreamWS)
	mux.HandleFunc("/healthz", s.handleHealth)

	httpServer := &http.Server{
		Addr:              s.cfg.Gateway.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("validation gateway listening",
		"addr", s.cfg.Gateway.Listen,
		"validate_path", s.cfg.Gateway.ValidatePath,
		"stream_path", s.cfg.Gateway.StreamPath)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *gatewayServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleValidate checks one message per request. Input size is capped here
// because transport limits are a deployment concern, not a protocol one.
func (s *gatewayServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !s.checkInternalAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logger := logging.FromContext(r.Context())

	input, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body_too_large"})
		return
	}

	result := s.validate(r.Context(), input)
	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
		logger.Warn("message rejected",
			"verdict_id", result.VerdictID,
			"kind", result.Error.Kind,
			"path", result.Error.Path)
	}
	writeJSON(w, status, result)
}

// handleStreamWS validates one message per websocket text frame and answers
// each frame with a verdict frame.
func (s *gatewayServer) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if !s.checkInternalAuth(w, r) {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sessionID := "ws_" + uuid.NewString()
	logger.Info("stream session opened", "remote", r.RemoteAddr, "session_id", sessionID)

	var frames int
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		frames++
		result := s.validate(ctx, data)
		if !result.OK {
			logger.Warn("stream message rejected",
				"session_id", sessionID,
				"verdict_id", result.VerdictID,
				"kind", result.Error.Kind)
		}
		if err := conn.Write(ctx, websocket.MessageText, mustMarshalJSON(result)); err != nil {
			break
		}
	}
	logger.Info("stream session closed", "session_id", sessionID, "frames", frames)
}

func (s *gatewayServer) validate(ctx context.Context, input []byte) verdict {
	out, err := s.validator.Validate(input)
	result := makeVerdict(out, err)
	result.VerdictID = uuid.NewString()
	s.auditVerdict(ctx, result)
	return result
}

type auditRecord struct {
	VerdictID string `json:"verdict_id"`
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	Ts        int64  `json:"ts"`
}

// auditVerdict publishes every verdict and keeps a TTL'd record of each
// rejection so operators can inspect recent failures.
func (s *gatewayServer) auditVerdict(ctx context.Context, result verdict) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Publish(ctx, "protoguard:evt", mustMarshalJSON(result)).Err()

	if result.OK {
		return
	}
	record := auditRecord{
		VerdictID: result.VerdictID,
		Kind:      result.Error.Kind,
		Path:      result.Error.Path,
		Ts:        time.Now().Unix(),
	}
	key := s.cfg.Gateway.RedisKeyPrefix + result.VerdictID
	ttl := time.Duration(s.cfg.Gateway.RedisTTLSeconds) * time.Second
	b, err := json.Marshal(record)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, key, b, ttl).Err()
}

func (s *gatewayServer) checkInternalAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Gateway.InternalToken == "" {
		return true
	}
	if r.Header.Get("X-Internal-Token") != s.cfg.Gateway.InternalToken {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}
