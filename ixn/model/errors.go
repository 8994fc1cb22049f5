package model

import "errors"

// ErrMalformedBlock reports a content block missing a field its type
// discriminator requires. Matched with errors.Is.
var ErrMalformedBlock = errors.New("malformed content block")
