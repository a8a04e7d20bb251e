/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package cos

import (
	"bufio"
	"io"
	"os"
)

// ReadLines streams path line by line, invoking fn per line. Returning
// io.EOF from fn stops the scan early without it being treated as an error.
func ReadLines(path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := fn(sc.Text()); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return sc.Err()
}
