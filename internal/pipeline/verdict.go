package pipeline

import "github.com/timmy/dmi/internal/domain"

// FrameVerdict combines a frame prediction with its crops: with crops the
// frame is fake only if the frame model says fake and more than half of the
// crops are fake; without crops the frame prediction stands.
func FrameVerdict(frame domain.Prediction, crops []domain.CropAnalysis) domain.Label {
	if len(crops) == 0 {
		return frame.Label
	}
	fake := 0
	for _, c := range crops {
		if c.Prediction == domain.LabelFake {
			fake++
		}
	}
	if frame.IsFake() && fake > len(crops)/2 {
		return domain.LabelFake
	}
	return domain.LabelReal
}

// ComputeStatistics aggregates frame results. Confidence is the mean frame
// model confidence and the submission is a deepfake when fake frames
// outnumber real ones.
func ComputeStatistics(frames []domain.FrameResult) domain.Statistics {
	var stats domain.Statistics
	if len(frames) == 0 {
		return stats
	}

	var confidence float64
	realFrames := 0
	for _, f := range frames {
		confidence += f.FrameAnalysis.Confidence
		if f.FinalVerdict == domain.LabelFake {
			stats.FakeFrames++
		} else {
			realFrames++
		}
		stats.TotalCrops += len(f.CropAnalyses)
		stats.FakeCrops += f.FakeCrops()
	}

	stats.TotalFrames = len(frames)
	stats.Confidence = confidence / float64(len(frames))
	stats.IsDeepfake = stats.FakeFrames > realFrames
	stats.FakeFramesPercentage = percentage(stats.FakeFrames, stats.TotalFrames)
	stats.FakeCropsPercentage = percentage(stats.FakeCrops, stats.TotalCrops)
	return stats
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
