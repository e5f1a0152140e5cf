package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-coach/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	evaluatorServiceName = "coach.v1.EvaluatorService"
	evaluateMethod       = "/" + evaluatorServiceName + "/Evaluate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedEvaluation      = errors.New("malformed evaluation payload")
)

// EvaluatorClient calls the remote rubric evaluator over gRPC.
// Requests and responses are google.protobuf.Struct payloads so the evaluator
// can evolve its rubric fields without a shared schema.
type EvaluatorClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// EvaluatorClientConfig holds configuration for the gRPC client.
type EvaluatorClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultEvaluatorClientConfig returns default configuration.
func DefaultEvaluatorClientConfig() EvaluatorClientConfig {
	return EvaluatorClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewEvaluatorClient creates a gRPC client to the evaluator service and waits
// until the connection is ready. Extra dial options are appended after the defaults.
func NewEvaluatorClient(cfg EvaluatorClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*EvaluatorClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultEvaluatorClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to evaluator at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("evaluator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to evaluator service", "address", cfg.Address)

	return &EvaluatorClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *EvaluatorClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Evaluate asks the evaluator to judge text against the rubric of phase.
func (c *EvaluatorClient) Evaluate(ctx context.Context, phase domain.Phase, text string) (domain.Evaluation, error) {
	req, err := structpb.NewStruct(map[string]any{
		"phase": phase.String(),
		"text":  text,
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("build evaluate request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, evaluateMethod, req, resp); err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluate request failed: %w", err)
	}
	return evaluationFromStruct(resp)
}

// ForPhase binds the client to a single phase's rubric.
func (c *EvaluatorClient) ForPhase(phase domain.Phase) *PhaseEvaluator {
	return &PhaseEvaluator{client: c, phase: phase}
}

// PhaseEvaluator is an EvaluatorClient bound to one phase.
type PhaseEvaluator struct {
	client *EvaluatorClient
	phase  domain.Phase
}

// Evaluate judges text against the bound phase's rubric.
func (p *PhaseEvaluator) Evaluate(ctx context.Context, text string) (domain.Evaluation, error) {
	return p.client.Evaluate(ctx, p.phase, text)
}

func evaluationFromStruct(s *structpb.Struct) (domain.Evaluation, error) {
	fields := s.GetFields()
	if errMsg := fields["error"].GetStringValue(); errMsg != "" {
		return domain.Evaluation{}, fmt.Errorf("%w: %s", errMalformedEvaluation, errMsg)
	}
	verdict, err := domain.ParseVerdict(fields["verdict"].GetStringValue())
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %w", errMalformedEvaluation, err)
	}
	eval := domain.Evaluation{
		Verdict:          verdict,
		Message:          fields["message"].GetStringValue(),
		SuggestedRewrite: fields["suggested_rewrite"].GetStringValue(),
		Reasoning:        fields["reasoning"].GetStringValue(),
		Technique:        fields["technique"].GetStringValue(),
	}
	if eval.Message == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: missing message", errMalformedEvaluation)
	}
	return eval, nil
}

// EvaluationToStruct encodes an evaluation as the evaluator's response payload.
func EvaluationToStruct(e domain.Evaluation) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"verdict":           string(e.Verdict),
		"message":           e.Message,
		"suggested_rewrite": e.SuggestedRewrite,
		"reasoning":         e.Reasoning,
		"technique":         e.Technique,
	})
}

// EvaluatorServer is the server side of the evaluator RPC.
type EvaluatorServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterEvaluatorServer registers srv on s under the evaluator service name.
func RegisterEvaluatorServer(s grpc.ServiceRegistrar, srv EvaluatorServer) {
	s.RegisterService(&evaluatorServiceDesc, srv)
}

var evaluatorServiceDesc = grpc.ServiceDesc{
	ServiceName: evaluatorServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler:    evaluateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coach/v1/evaluator.proto",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: evaluateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
