// Package morph provides Japanese morphological analysis.
package morph
