package provider

import "context"

// DelimiterLister groups keys at the first delimiter after the prefix, the
// way ListObjectsV2 does. It is what makes directories listable.
//
// A page holds the objects directly under Prefix and the common prefixes
// (delimiter-terminated) one level down, each in key order. An empty
// Delimiter lists flat.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, opts ListWithDelimiterOptions) (*ListWithDelimiterResult, error)
}

// ListWithDelimiterOptions selects one page of a grouped listing. MaxKeys
// counts objects and common prefixes together.
type ListWithDelimiterOptions struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

// ListWithDelimiterResult is one page of a grouped listing.
type ListWithDelimiterResult struct {
	Objects           []ObjectSummary
	CommonPrefixes    []string
	ContinuationToken string
	IsTruncated       bool
}
