// Package metrics exposes application metrics collectors.
package metrics

const namespace = "chain_indexer"

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
