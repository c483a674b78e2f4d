// Package model defines the records shared by the crawler, the page store
// and the report writers.
//
// This package contains the following main types:
//   - Page: one fetched (or finally failed) URL as seen by the crawler
//   - Run: one crawl run, persisted as history
//
// The types are plain data so they can be serialised to JSON for reports
// and stored in SQLite without further mapping.
package model
