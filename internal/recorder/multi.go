package recorder

import "errors"

// MultiRecorder fans every event out to several recorders and joins their errors.
type MultiRecorder struct {
	recorders []Recorder
}

func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

func (m *MultiRecorder) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range m.recorders {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) RecordCycle(evt *CycleEvent) error {
	return m.each(func(r Recorder) error { return r.RecordCycle(evt) })
}

func (m *MultiRecorder) RecordStep(evt *StepEvent) error {
	return m.each(func(r Recorder) error { return r.RecordStep(evt) })
}

func (m *MultiRecorder) RecordDistribution(evt *DistributionEvent) error {
	return m.each(func(r Recorder) error { return r.RecordDistribution(evt) })
}

func (m *MultiRecorder) RecordIncome(evt *IncomeEvent) error {
	return m.each(func(r Recorder) error { return r.RecordIncome(evt) })
}

func (m *MultiRecorder) Close() error {
	return m.each(func(r Recorder) error { return r.Close() })
}
