// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output backends and the audio frame presenter
// Package output plays audio frames and derives the audio clock from them.
//
// Oto drives a real device through ebitengine/oto; Null consumes samples at
// the device rate without making sound. Presenter adapts either one to the
// renderer and reports the audible position to its clock.
//
// Example:
//
//	out := output.NewOto(output.OtoConfig{})
//	speaker, err := output.NewPresenter(out, output.PresenterConfig{
//		SampleRate: 48000,
//		Channels:   2,
//	})
//	if err != nil {
//		return err
//	}
//	defer speaker.Close()
package output
