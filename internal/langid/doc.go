// Package langid decides whether text is in a target language.
//
// Predictor.Plausible is a cheap script test (for Japanese: any hiragana or
// katakana). Predictor.Predict runs the trained Detector and accepts the
// text when the detected language matches with confidence above the
// threshold, 0.6 by default.
package langid
