package grpcclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/lesion-intake/internal/classifier"
	"github.com/example/lesion-intake/internal/logging"
)

const (
	// PredictMethod is the unary RPC served by the model server.
	PredictMethod = "/lesion.v1.LesionModel/Predict"

	// ShapeHeader carries the tensor shape as "c,h,w".
	ShapeHeader = "x-tensor-shape"
)

// DialModel connects to the model server and returns it as a classifier.Model.
func DialModel(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (classifier.Model, *grpc.ClientConn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewModel(conn, logger), conn, nil
}

// NewModel wraps an existing connection.
func NewModel(conn grpc.ClientConnInterface, logger *zap.Logger) classifier.Model {
	return &grpcModel{conn: conn, logger: logger.Named("grpc_model")}
}

type grpcModel struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (m *grpcModel) Predict(ctx context.Context, input classifier.Tensor) ([]float64, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, ShapeHeader, FormatShape(input.Shape))

	req := wrapperspb.Bytes(EncodeTensor(input.Data))
	resp := &structpb.ListValue{}
	if err := m.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		m.logger.Error("model call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	values := resp.GetValues()
	probs := make([]float64, len(values))
	for i, v := range values {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, logging.NewOperationError("grpcclient.predict", "", fmt.Errorf("value %d is not a number", i))
		}
		probs[i] = num.NumberValue
	}
	return probs, nil
}

// EncodeTensor serializes values as little-endian float32.
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor payload length %d is not a multiple of 4", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values, nil
}

func FormatShape(shape [3]int) string {
	return fmt.Sprintf("%d,%d,%d", shape[0], shape[1], shape[2])
}

func ParseShape(s string) ([3]int, error) {
	var shape [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return shape, fmt.Errorf("shape %q must have three dimensions", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return shape, fmt.Errorf("shape %q has invalid dimension %q", s, p)
		}
		shape[i] = n
	}
	return shape, nil
}
