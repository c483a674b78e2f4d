// Package main provides the entry point for the crawlkit CLI.
//
// crawlkit is a bounded-concurrency web crawler. It fetches pages through a
// fixed pool of connections, retries transient network failures, caches
// responses and keeps a history of its runs.
//
// Usage:
//
//	crawlkit crawl <url>...
//	crawlkit crawl --seeds <file>
//	crawlkit history
//
// See --help for all available options.
package main

func main() {
	Execute()
}
