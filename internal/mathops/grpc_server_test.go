package mathops

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/demetra.report/internal/monitoring"
)

func startBufServer(t *testing.T) *Client {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer()
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGRPC_Matrices(t *testing.T) {
	client := startBufServer(t)
	ctx := testContext(t)

	c, err := client.MultiplyMatrices(ctx,
		Matrix{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}},
		Matrix{Rows: 2, Cols: 1, Data: []float64{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, Matrix{Rows: 2, Cols: 1, Data: []float64{3, 7}}, c)

	inv, cond, err := client.InvertMatrix(ctx, Matrix{Rows: 2, Cols: 2, Data: []float64{2, 0, 0, 4}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 0, 0.25}, inv.Data, 1e-12)
	assert.InDelta(t, 2, cond, 1e-9)

	sol, err := client.SolveLinearSystem(ctx, Matrix{Rows: 2, Cols: 2, Data: []float64{1, 0, 0, 2}}, []float64{3, 4})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 2}, sol.X, 1e-10)
	assert.Equal(t, 2, sol.Rank)

	eig, err := client.ComputeEigenDecomposition(ctx, Matrix{Rows: 2, Cols: 2, Data: []float64{1, 0, 0, 1}}, true)
	require.NoError(t, err)
	require.Len(t, eig.Values, 2)
	require.NotNil(t, eig.VectorsReal)

	svd, err := client.ComputeSVD(ctx, Matrix{Rows: 2, Cols: 2, Data: []float64{5, 0, 0, 1}}, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, 1}, svd.S, 1e-12)
}

func TestGRPC_Polynomials(t *testing.T) {
	client := startBufServer(t)
	ctx := testContext(t)

	roots, err := client.FindPolynomialRoots(ctx, []float64{1, 0, -4})
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.InDelta(t, 0, roots[0].Real+roots[1].Real, 1e-10)

	vals, err := client.EvaluatePolynomial(ctx, []float64{1, 0, -4}, []float64{0, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{-4, 0, 5}, vals)

	prod, err := client.MultiplyPolynomials(ctx, []float64{1, 2}, []float64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 5, 6}, prod)
}

func TestGRPC_ErrorMapping(t *testing.T) {
	client := startBufServer(t)
	ctx := testContext(t)

	_, err := client.MultiplyMatrices(ctx,
		Matrix{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}},
		Matrix{Rows: 3, Cols: 1, Data: []float64{1, 1, 1}})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Contains(t, st.Message(), "Incompatible dimensions: (2,2) x (3,1)")

	_, err = client.FindPolynomialRoots(ctx, []float64{0, 0, 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, _, err = client.InvertMatrix(ctx, Matrix{Rows: 2, Cols: 2, Data: []float64{1, 1, 1, 1}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_MalformedPayload(t *testing.T) {
	srv := NewServer()
	in, err := structpb.NewStruct(map[string]any{"a": "not a matrix"})
	require.NoError(t, err)

	_, err = srv.MultiplyMatrices(context.Background(), in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStatus_Internal(t *testing.T) {
	monitoring.SetLogger(nil)
	err := toStatus("Test", assert.AnError)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "Internal server error", st.Message())
}

func TestServiceDescMatchesProto(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "proto", ServiceDesc.Metadata.(string)))
	require.NoError(t, err)
	assert.Contains(t, string(src), "package demetra.math.v1;")

	var rpcs []string
	for _, m := range regexp.MustCompile(`rpc (\w+)\(`).FindAllStringSubmatch(string(src), -1) {
		rpcs = append(rpcs, m[1])
	}
	var methods []string
	for _, m := range ServiceDesc.Methods {
		methods = append(methods, m.MethodName)
	}
	assert.Equal(t, methods, rpcs)
}
