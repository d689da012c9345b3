// Package sentiment classifies text with a local BERT sentiment checkpoint
// exported to ONNX.
//
// Quick start:
//
//	c, err := sentiment.New(sentiment.WithModelDir("model/bert_text_classifier"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, _ := c.Classify(ctx, "This product is fantastic! I love it.")
//	fmt.Println(res.Label, res.Confidence) // positive 0.999...
//
// The Classifier is safe for concurrent use. Create once, reuse across
// requests.
package sentiment
