package task

// Stats 聚合了任务状态的统计信息。
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (s *Stats) add(status Status, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusRunning:
		s.Running += n
	case StatusSucceeded:
		s.Succeeded += n
	case StatusFailed:
		s.Failed += n
	}
}
