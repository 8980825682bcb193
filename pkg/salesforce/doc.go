// Package salesforce is the remote side of attachdl: it authenticates against an
// org, pages through Attachment records and tells workers where each body lives.
//
// Pages are fetched with keyset pagination rather than query locators so that a
// position survives process restarts. The cursor token is the CreatedDate and Id
// of the last record seen, and the next page selects
//
//	CreatedDate < d OR (CreatedDate = d AND Id > 'id')
//
// under ORDER BY CreatedDate DESC, Id ASC.
//
// All goroutines share one SessionManager. The first caller to see a 401 renews
// the session; callers holding the same stale token pick up the renewed one
// instead of logging in again.
package salesforce
