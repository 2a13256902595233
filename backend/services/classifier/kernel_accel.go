package classifier

// forwardAccelerated is a hook for a vectorized scoring path. No accelerated
// implementation ships yet, so every call reports unavailability and the
// caller uses the portable path.
func (k *LinearKernel) forwardAccelerated(ids []uint32) (float64, error) {
	return 0, ErrAccelerationUnavailable
}
