package segment

// dbscan is a small from-scratch density-based clustering pass (no DBSCAN
// package in the dependency corpus this module draws from — the same
// standard-library justification as internal/detect's PELT search). Labels
// are cluster IDs starting at 0; -1 marks noise, matching the convention
// reused for synthesized "unknown" segments.
func dbscan(points []feature, eps float64, minPts int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != -2 {
			continue
		}
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPts {
			labels[i] = -1
			continue
		}
		expandCluster(points, labels, i, neighbors, clusterID, eps, minPts)
		clusterID++
	}
	return labels
}

func regionQuery(points []feature, idx int, eps float64) []int {
	var neighbors []int
	for j, p := range points {
		if points[idx].distance(p) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func expandCluster(points []feature, labels []int, idx int, neighbors []int, clusterID int, eps float64, minPts int) {
	labels[idx] = clusterID
	queue := append([]int(nil), neighbors...)

	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		if labels[j] == -1 {
			labels[j] = clusterID
		}
		if labels[j] != -2 {
			continue
		}
		labels[j] = clusterID

		jNeighbors := regionQuery(points, j, eps)
		if len(jNeighbors) >= minPts {
			queue = append(queue, jNeighbors...)
		}
	}
}
