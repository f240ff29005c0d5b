package lzf

import "errors"

var (
	errShortInput     = errors.New("lzf: truncated compressed input")
	errBadBackref     = errors.New("lzf: back-reference points before start of output")
	errLengthMismatch = errors.New("lzf: decompressed length does not match expected length")
)
