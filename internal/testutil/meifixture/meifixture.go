// Package meifixture builds small MEI scores for tests.
package meifixture

import (
	"fmt"
	"strings"
)

// Score returns an MEI document with n measures numbered 1..n, split
// across two sections so slicing crosses parent boundaries.
func Score(n int) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<mei xmlns="http://www.music-encoding.org/ns/mei" meiversion="5.0">`)
	b.WriteString(`<meiHead><fileDesc><titleStmt><title>Fixture</title></titleStmt></fileDesc></meiHead>`)
	b.WriteString(`<music><body><mdiv><score>`)
	b.WriteString(`<scoreDef><staffGrp><staffDef n="1" lines="5"/></staffGrp></scoreDef>`)
	half := n / 2
	b.WriteString(`<section n="a">`)
	for i := 1; i <= half; i++ {
		writeMeasure(&b, i)
	}
	b.WriteString(`</section><section n="b">`)
	for i := half + 1; i <= n; i++ {
		writeMeasure(&b, i)
	}
	b.WriteString(`</section></score></mdiv></body></music></mei>`)
	return []byte(b.String())
}

// MeasureMarker is the attribute text identifying measure i in serialized output.
func MeasureMarker(i int) string {
	return fmt.Sprintf(`xml:id="m%d"`, i)
}

func writeMeasure(b *strings.Builder, i int) {
	fmt.Fprintf(b, `<measure n="%d" xml:id="m%d"><staff n="1"><layer n="1"><note pname="c" oct="4" dur="4"/></layer></staff></measure>`, i, i)
}
