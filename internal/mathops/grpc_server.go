package mathops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/demetra.report/internal/monitoring"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "demetra.math.v1.MathService"

// MathServer is the server API for MathService. Every method takes and
// returns a structpb.Struct whose fields mirror the JSON request types.
type MathServer interface {
	MultiplyMatrices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvertMatrix(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SolveLinearSystem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputeEigenDecomposition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputeSVD(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindPolynomialRoots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluatePolynomial(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MultiplyPolynomials(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(MathServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call methodFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MathServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MathServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes MathService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MathServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("MultiplyMatrices", MathServer.MultiplyMatrices),
		unaryMethod("InvertMatrix", MathServer.InvertMatrix),
		unaryMethod("SolveLinearSystem", MathServer.SolveLinearSystem),
		unaryMethod("ComputeEigenDecomposition", MathServer.ComputeEigenDecomposition),
		unaryMethod("ComputeSVD", MathServer.ComputeSVD),
		unaryMethod("FindPolynomialRoots", MathServer.FindPolynomialRoots),
		unaryMethod("EvaluatePolynomial", MathServer.EvaluatePolynomial),
		unaryMethod("MultiplyPolynomials", MathServer.MultiplyPolynomials),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "demetra/math/v1/math.proto",
}

// RegisterMathServer attaches srv to s.
func RegisterMathServer(s grpc.ServiceRegistrar, srv MathServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ MathServer = (*Server)(nil)

// Server implements MathService on top of the package functions.
type Server struct{}

// NewServer creates a MathService implementation.
func NewServer() *Server { return &Server{} }

// Request and response shapes carried inside the structpb payloads.
type (
	MatrixPairRequest struct {
		A Matrix `json:"a"`
		B Matrix `json:"b"`
	}
	MatrixRequest struct {
		Matrix              Matrix `json:"matrix"`
		ComputeEigenvectors bool   `json:"compute_eigenvectors,omitempty"`
		FullMatrices        bool   `json:"full_matrices,omitempty"`
	}
	LinearSystemRequest struct {
		A Matrix    `json:"a"`
		B []float64 `json:"b"`
	}
	MatrixResponse struct {
		Result          Matrix   `json:"result"`
		ConditionNumber *float64 `json:"condition_number,omitempty"`
	}
	PolynomialRequest struct {
		Coefficients []float64 `json:"coefficients"`
		X            []float64 `json:"x,omitempty"`
	}
	PolynomialPairRequest struct {
		P1 []float64 `json:"p1"`
		P2 []float64 `json:"p2"`
	}
	RootsResponse struct {
		Roots []Complex `json:"roots"`
	}
	EvaluateResponse struct {
		Values []float64 `json:"values"`
	}
	PolynomialResponse struct {
		Coefficients []float64 `json:"coefficients"`
	}
)

// decodeStruct converts a structpb payload into a typed request.
func decodeStruct(in *structpb.Struct, dst any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: malformed request: %v", ErrInvalidArgument, err)
	}
	return nil
}

// encodeStruct converts a typed response into a structpb payload.
func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// toStatus maps caller errors to InvalidArgument and hides the rest
// behind Internal.
func toStatus(method string, err error) error {
	if errors.Is(err, ErrInvalidArgument) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	monitoring.Logf("[gRPC] Error in %s: %v", method, err)
	return status.Error(codes.Internal, "Internal server error")
}

func serve[Req any](method string, in *structpb.Struct, fn func(*Req) (any, error)) (*structpb.Struct, error) {
	req := new(Req)
	if err := decodeStruct(in, req); err != nil {
		return nil, toStatus(method, err)
	}
	out, err := fn(req)
	if err != nil {
		return nil, toStatus(method, err)
	}
	resp, err := encodeStruct(out)
	if err != nil {
		return nil, toStatus(method, err)
	}
	return resp, nil
}

// MultiplyMatrices returns a·b.
func (s *Server) MultiplyMatrices(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("MultiplyMatrices", in, func(r *MatrixPairRequest) (any, error) {
		c, err := Multiply(r.A, r.B)
		if err != nil {
			return nil, err
		}
		return MatrixResponse{Result: c}, nil
	})
}

// InvertMatrix returns the inverse and the condition number.
func (s *Server) InvertMatrix(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("InvertMatrix", in, func(r *MatrixRequest) (any, error) {
		inv, cond, err := Invert(r.Matrix)
		if err != nil {
			return nil, err
		}
		return MatrixResponse{Result: inv, ConditionNumber: &cond}, nil
	})
}

// SolveLinearSystem returns the least-squares solution of A·x = b.
func (s *Server) SolveLinearSystem(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("SolveLinearSystem", in, func(r *LinearSystemRequest) (any, error) {
		return Solve(r.A, r.B)
	})
}

// ComputeEigenDecomposition returns eigenvalues and optionally eigenvectors.
func (s *Server) ComputeEigenDecomposition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("ComputeEigenDecomposition", in, func(r *MatrixRequest) (any, error) {
		return Eigen(r.Matrix, r.ComputeEigenvectors)
	})
}

// ComputeSVD returns U, the singular values and Vt.
func (s *Server) ComputeSVD(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("ComputeSVD", in, func(r *MatrixRequest) (any, error) {
		return SVD(r.Matrix, r.FullMatrices)
	})
}

// FindPolynomialRoots returns the complex roots.
func (s *Server) FindPolynomialRoots(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("FindPolynomialRoots", in, func(r *PolynomialRequest) (any, error) {
		roots, err := Roots(r.Coefficients)
		if err != nil {
			return nil, err
		}
		return RootsResponse{Roots: roots}, nil
	})
}

// EvaluatePolynomial evaluates the polynomial at every x.
func (s *Server) EvaluatePolynomial(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("EvaluatePolynomial", in, func(r *PolynomialRequest) (any, error) {
		if len(r.Coefficients) == 0 {
			return nil, invalidf("Polynomial must have at least one coefficient")
		}
		out := EvaluateResponse{Values: make([]float64, len(r.X))}
		for i, x := range r.X {
			out.Values[i] = Evaluate(r.Coefficients, x)
		}
		return out, nil
	})
}

// MultiplyPolynomials returns p1·p2.
func (s *Server) MultiplyPolynomials(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return serve("MultiplyPolynomials", in, func(r *PolynomialPairRequest) (any, error) {
		return PolynomialResponse{Coefficients: MultiplyPoly(r.P1, r.P2)}, nil
	})
}

// LoggingInterceptor logs every unary call with its duration and outcome.
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	monitoring.Logf("[gRPC] %s %s %.3fms", info.FullMethod, code, float64(time.Since(start).Nanoseconds())/1e6)
	return resp, err
}

// NewGRPCServer builds a grpc.Server with MathService registered and the
// logging interceptor installed.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(LoggingInterceptor))
	s := grpc.NewServer(opts...)
	RegisterMathServer(s, NewServer())
	return s
}
