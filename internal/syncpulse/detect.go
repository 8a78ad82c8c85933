package syncpulse

// DetectPulses returns the sample index of every run of samples above
// threshold whose length exceeds minRun samples, in ascending order.
//
// The series is conceptually padded with one below-threshold sample at each
// end, so runs touching either boundary still have both a rising and a
// falling edge. Runs of minRun samples or fewer are dropped.
func DetectPulses(samples []float64, threshold float64, minRun float64) []int {
	// above[i+1] reports samples[i]; above[0] and above[n+1] are the padding.
	n := len(samples)
	above := make([]bool, n+2)
	for i, s := range samples {
		above[i+1] = s > threshold
	}

	var starts, ends []int
	for i := 0; i <= n; i++ {
		switch {
		case !above[i] && above[i+1]:
			starts = append(starts, i)
		case above[i] && !above[i+1]:
			ends = append(ends, i)
		}
	}

	var pulses []int
	for k, start := range starts {
		if float64(ends[k]-start) > minRun {
			pulses = append(pulses, start)
		}
	}
	return pulses
}
