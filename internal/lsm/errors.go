package lsm

import "errors"

var (
	errShortBloom    = errors.New("lsm: truncated bloom filter section")
	errBadMagic      = errors.New("lsm: bad SSTable magic")
	errBadCRC        = errors.New("lsm: SSTable footer CRC mismatch")
	errUnsupportedVer = errors.New("lsm: unsupported SSTable version")
)
