//go:build !linux

package storage

func exchangeDirs(a, b string) error {
	return errExchangeUnsupported
}
