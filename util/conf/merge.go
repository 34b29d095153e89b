package conf

// MergeDefaults merges maps into a single flat map, prefixing every key
// with the namespace ns, e.g. "process" and "kill_timeout" become
// "process.kill_timeout". An empty ns leaves the keys untouched. Later
// maps win over earlier ones.
func MergeDefaults[M ~map[string]V, V any](ns string, maps ...M) M {
	fullCap := 0
	for _, m := range maps {
		fullCap += len(m)
	}

	prefix := ""
	if ns != "" {
		prefix = ns + "."
	}

	merged := make(M, fullCap)
	for _, m := range maps {
		for key, val := range m {
			merged[prefix+key] = val
		}
	}

	return merged
}
