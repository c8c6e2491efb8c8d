package dsp

import "math"

// BinAmplitude estimates the amplitude of a single frequency component by
// direct correlation against cosine and sine at that frequency. Cheaper than
// a full transform when only a handful of bins are needed.
func BinAmplitude(samples []float32, sampleRate int, freq float64) float64 {
	if len(samples) == 0 || sampleRate <= 0 || freq <= 0 {
		return 0
	}
	w := 2 * math.Pi * freq / float64(sampleRate)
	var re, im float64
	for n, s := range samples {
		re += float64(s) * math.Cos(w*float64(n))
		im += float64(s) * math.Sin(w*float64(n))
	}
	return 2 * math.Sqrt(re*re+im*im) / float64(len(samples))
}

// SpectralCentroid returns the magnitude-weighted mean frequency of the
// frame, estimated over the fixed analysis bins.
func SpectralCentroid(samples []float32, sampleRate int) float64 {
	sd := analyzeSpectrum(samples, sampleRate)
	if sd == nil {
		return 0
	}
	var weighted, total float64
	for i, m := range sd.Magnitudes {
		weighted += sd.Frequencies[i] * m
		total += m
	}
	if total < epsilon {
		return 0
	}
	return weighted / total
}

// analyzeSpectrum estimates per-bin amplitudes across SpectralBins bins up to
// the Nyquist frequency and derives the dominant frequency and the 90%-energy
// bandwidth.
func analyzeSpectrum(samples []float32, sampleRate int) *SpectralData {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	nyquist := float64(sampleRate) / 2
	binWidth := nyquist / float64(SpectralBins)

	sd := &SpectralData{
		Frequencies: make([]float64, SpectralBins),
		Magnitudes:  make([]float64, SpectralBins),
	}

	var totalPower float64
	maxIdx := 0
	for i := 0; i < SpectralBins; i++ {
		f := binWidth * float64(i+1)
		m := BinAmplitude(samples, sampleRate, f)
		sd.Frequencies[i] = f
		sd.Magnitudes[i] = m
		totalPower += m * m
		if m > sd.Magnitudes[maxIdx] {
			maxIdx = i
		}
	}
	sd.DominantFrequency = sd.Frequencies[maxIdx]

	if totalPower < epsilon {
		return sd
	}

	// Smallest span holding the 5%-95% cumulative squared-magnitude range.
	lowTarget := BandwidthLowQuantile * totalPower
	highTarget := BandwidthHighQuantile * totalPower
	var cum float64
	lowFreq, highFreq := sd.Frequencies[0], sd.Frequencies[SpectralBins-1]
	lowSet := false
	for i, m := range sd.Magnitudes {
		cum += m * m
		if !lowSet && cum >= lowTarget {
			lowFreq = sd.Frequencies[i]
			lowSet = true
		}
		if cum >= highTarget {
			highFreq = sd.Frequencies[i]
			break
		}
	}
	sd.Bandwidth = highFreq - lowFreq
	return sd
}

// analyzeQuality computes the derived quality metrics for a processed frame.
func analyzeQuality(samples []float32, sampleRate int) Quality {
	q := Quality{}
	if len(samples) == 0 {
		return q
	}

	q.PeakLevel = peakAbs(samples)
	q.RMSLevel = RMS(samples)

	var clipped, silent int
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > ClippingLevel {
			clipped++
		}
		if a < SilenceLevel {
			silent++
		}
	}
	q.ClippingPct = float64(clipped) / float64(len(samples))
	q.SilencePct = float64(silent) / float64(len(samples))

	noiseFloor := noiseFloorEnergy(samples)
	signal := math.Max(meanSquare(samples), epsilon)
	q.SNR = 10 * math.Log10(signal/noiseFloor)
	q.DynamicRange = 20 * math.Log10(math.Max(q.PeakLevel, epsilon)/math.Sqrt(noiseFloor))
	q.THD = estimateTHD(samples, sampleRate)
	return q
}

// noiseFloorEnergy returns the 10th-percentile energy across fixed windows,
// floored to keep the SNR log finite.
func noiseFloorEnergy(samples []float32) float64 {
	var energies []float64
	for start := 0; start+QualityWindowSize <= len(samples); start += QualityWindowSize {
		energies = append(energies, meanSquare(samples[start:start+QualityWindowSize]))
	}
	if len(energies) == 0 {
		energies = append(energies, meanSquare(samples))
	}
	sortFloats(energies)
	idx := len(energies) / 10
	floor := energies[idx]
	if floor < NoiseFloorMin {
		floor = NoiseFloorMin
	}
	return floor
}

// estimateTHD detects the fundamental via autocorrelation over the 50 Hz to
// 1 kHz period range, then compares harmonic amplitudes against it.
func estimateTHD(samples []float32, sampleRate int) float64 {
	f0 := detectPitch(samples, sampleRate)
	if f0 <= 0 {
		return 0
	}
	fund := BinAmplitude(samples, sampleRate, f0)
	if fund < epsilon {
		return 0
	}
	nyquist := float64(sampleRate) / 2
	var harmPower float64
	for h := 2; h <= HarmonicsTHD+1; h++ {
		hf := f0 * float64(h)
		if hf >= nyquist {
			break
		}
		a := BinAmplitude(samples, sampleRate, hf)
		harmPower += a * a
	}
	return math.Sqrt(harmPower) / fund
}

// detectPitch returns the fundamental frequency found by normalized
// autocorrelation, or 0 when no periodicity stands out.
func detectPitch(samples []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	minLag := sampleRate / PitchMaxHz
	maxLag := sampleRate / PitchMinHz
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}
	if maxLag <= minLag {
		return 0
	}

	energy := meanSquare(samples) * float64(len(samples))
	if energy < epsilon {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(samples); i++ {
			corr += float64(samples[i]) * float64(samples[i+lag])
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	// Weak periodicity reads as noise, not pitch.
	if bestLag == 0 || bestCorr < 0.3 {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}
