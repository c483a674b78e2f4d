// Package crawler provides the built-in link-following handler set.
//
// # Components
//
//   - Spider: task and data handlers that turn fetch results into
//     model.Page records and follow same-host links
//   - Parser: HTML parser that extracts the title and links
//
// # Usage
//
//	spider := crawler.NewSpider(crawler.WithMaxDepth(3), crawler.WithStore(db))
//	e, err := engine.New(spider.TaskHandlers(), spider.DataHandlers())
//	spider.Seed(e, "https://example.com/")
//	err = e.Run(ctx)
//
// # Limits
//
// Links are followed while the task depth is below the max depth (per host
// overrides come from WithRules). Pages over the page limit are dropped and
// the engine is stopped. Paths are filtered with glob ignore and follow
// patterns. A <meta name="robots" content="nofollow"> page yields no links.
package crawler
