package core

import (
	"errors"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/dirdoc"
)

var (
	ErrInvalidConsensus    = errors.New("invalid consensus")
	ErrInvalidVote         = errors.New("invalid vote")
	ErrChurnAboveThreshold = errors.New("churn above threshold")
	ErrSelection           = errors.New("relay selection failed")

	ErrCertGenFailed   = certgen.ErrCertGenFailed
	ErrSignatureDecode = dirdoc.ErrSignatureDecode
)
