// Package storage holds helpers shared by the crawler.BlobStore
// implementations in its subpackages.
package storage
