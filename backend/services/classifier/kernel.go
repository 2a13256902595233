package classifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Kernel turns tokenized prompts into a raw logit. Implementations must be
// deterministic: the same identifiers always produce the same logit.
type Kernel interface {
	// Forward computes the logit for the given feature identifiers.
	Forward(ids []uint32) (float64, error)

	// Buckets returns the feature space size the kernel was trained for.
	Buckets() uint32
}

// ErrAccelerationUnavailable signals that an accelerated scoring path could
// not run and the caller should fall back to the portable one.
var ErrAccelerationUnavailable = errors.New("accelerated scoring unavailable")

const (
	weightsMagic   = "LRCW"
	weightsVersion = uint32(1)
)

// LinearKernel scores prompts with a hashed bag-of-words linear model:
// the logit is the bias plus the mean weight of the prompt's token buckets.
type LinearKernel struct {
	weights []float32
	bias    float32
}

// NewLinearKernel builds a kernel from explicit weights. Used by tests and
// the artifact loader.
func NewLinearKernel(weights []float32, bias float32) *LinearKernel {
	return &LinearKernel{weights: weights, bias: bias}
}

// LoadKernel reads a weight artifact from disk. The format is a fixed
// little-endian layout: "LRCW" magic, version, bucket count, float32
// weights, float32 bias.
func LoadKernel(path string) (*LinearKernel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open classifier weights: %w", err)
	}
	defer f.Close()

	return ReadKernel(f)
}

// ReadKernel parses a weight artifact from r.
func ReadKernel(r io.Reader) (*LinearKernel, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read weights header: %w", err)
	}
	if string(magic[:]) != weightsMagic {
		return nil, fmt.Errorf("invalid weights magic %q", magic)
	}

	var version, buckets uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read weights version: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &buckets); err != nil {
		return nil, fmt.Errorf("failed to read bucket count: %w", err)
	}
	if buckets == 0 || buckets > 1<<24 {
		return nil, fmt.Errorf("implausible bucket count %d", buckets)
	}

	weights := make([]float32, buckets)
	if err := binary.Read(r, binary.LittleEndian, weights); err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}

	var bias float32
	if err := binary.Read(r, binary.LittleEndian, &bias); err != nil {
		return nil, fmt.Errorf("failed to read bias: %w", err)
	}

	return &LinearKernel{weights: weights, bias: bias}, nil
}

// WriteKernel serializes a kernel into the artifact format. Counterpart of
// ReadKernel, used by tooling and tests.
func WriteKernel(w io.Writer, k *LinearKernel) error {
	if _, err := w.Write([]byte(weightsMagic)); err != nil {
		return fmt.Errorf("failed to write weights magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, weightsVersion); err != nil {
		return fmt.Errorf("failed to write weights version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(k.weights))); err != nil {
		return fmt.Errorf("failed to write bucket count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, k.weights); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, k.bias); err != nil {
		return fmt.Errorf("failed to write bias: %w", err)
	}
	return nil
}

// Buckets implements Kernel.
func (k *LinearKernel) Buckets() uint32 {
	return uint32(len(k.weights))
}

// Forward implements Kernel. An empty identifier list scores bias only.
func (k *LinearKernel) Forward(ids []uint32) (float64, error) {
	logit, err := k.forwardAccelerated(ids)
	if err == nil {
		return logit, nil
	}
	if !errors.Is(err, ErrAccelerationUnavailable) {
		return 0, err
	}
	return k.forwardPortable(ids)
}

func (k *LinearKernel) forwardPortable(ids []uint32) (float64, error) {
	if len(ids) == 0 {
		return float64(k.bias), nil
	}

	var sum float64
	for _, id := range ids {
		if id >= uint32(len(k.weights)) {
			return 0, fmt.Errorf("feature id %d out of range for %d buckets", id, len(k.weights))
		}
		sum += float64(k.weights[id])
	}
	return float64(k.bias) + sum/float64(len(ids)), nil
}

// Sigmoid maps a logit into (0, 1). Kept in the host rather than the kernel
// so alternative kernels only have to agree on logits.
func Sigmoid(logit float64) float64 {
	return 1.0 / (1.0 + math.Exp(-logit))
}
