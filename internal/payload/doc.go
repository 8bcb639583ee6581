// Package payload decodes the HTTP response embedded in a WARC response
// record.
//
// Content is decoded under a fallback list of encodings (UTF-8, Shift_JIS
// and EUC-JP by default); the first that decodes without replacement
// characters wins. The envelope is then split into status, headers and body,
// and the body is NFKC-normalised.
package payload
