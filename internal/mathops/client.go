package mathops

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed MathService client.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := encodeStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	b, err := json.Marshal(out.AsMap())
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(b, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// MultiplyMatrices returns a·b.
func (c *Client) MultiplyMatrices(ctx context.Context, a, b Matrix) (Matrix, error) {
	var resp MatrixResponse
	err := c.call(ctx, "MultiplyMatrices", MatrixPairRequest{A: a, B: b}, &resp)
	return resp.Result, err
}

// InvertMatrix returns the inverse and its condition number.
func (c *Client) InvertMatrix(ctx context.Context, m Matrix) (Matrix, float64, error) {
	var resp MatrixResponse
	if err := c.call(ctx, "InvertMatrix", MatrixRequest{Matrix: m}, &resp); err != nil {
		return Matrix{}, 0, err
	}
	var cond float64
	if resp.ConditionNumber != nil {
		cond = *resp.ConditionNumber
	}
	return resp.Result, cond, nil
}

// SolveLinearSystem returns the least-squares solution of a·x = b.
func (c *Client) SolveLinearSystem(ctx context.Context, a Matrix, b []float64) (*Solution, error) {
	var resp Solution
	if err := c.call(ctx, "SolveLinearSystem", LinearSystemRequest{A: a, B: b}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComputeEigenDecomposition returns the eigenvalues and, optionally, vectors.
func (c *Client) ComputeEigenDecomposition(ctx context.Context, m Matrix, vectors bool) (*EigenResult, error) {
	var resp EigenResult
	if err := c.call(ctx, "ComputeEigenDecomposition", MatrixRequest{Matrix: m, ComputeEigenvectors: vectors}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComputeSVD returns the singular value decomposition.
func (c *Client) ComputeSVD(ctx context.Context, m Matrix, full bool) (*SVDResult, error) {
	var resp SVDResult
	if err := c.call(ctx, "ComputeSVD", MatrixRequest{Matrix: m, FullMatrices: full}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindPolynomialRoots returns the roots of p.
func (c *Client) FindPolynomialRoots(ctx context.Context, p []float64) ([]Complex, error) {
	var resp RootsResponse
	if err := c.call(ctx, "FindPolynomialRoots", PolynomialRequest{Coefficients: p}, &resp); err != nil {
		return nil, err
	}
	return resp.Roots, nil
}

// EvaluatePolynomial evaluates p at each x.
func (c *Client) EvaluatePolynomial(ctx context.Context, p, x []float64) ([]float64, error) {
	var resp EvaluateResponse
	if err := c.call(ctx, "EvaluatePolynomial", PolynomialRequest{Coefficients: p, X: x}, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// MultiplyPolynomials returns p1·p2.
func (c *Client) MultiplyPolynomials(ctx context.Context, p1, p2 []float64) ([]float64, error) {
	var resp PolynomialResponse
	if err := c.call(ctx, "MultiplyPolynomials", PolynomialPairRequest{P1: p1, P2: p2}, &resp); err != nil {
		return nil, err
	}
	return resp.Coefficients, nil
}
