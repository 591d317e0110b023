package coordination

// FeedbackController turns target and observed aggregate power into a desired
// response level. The PI output is accumulated into a running process value, so
// a constant error keeps ratcheting the returned level.
type FeedbackController struct {
	Kp float64
	Ki float64
	// IntegralLimit clamps the integral term to ±IntegralLimit; zero means unbounded.
	IntegralLimit float64

	integral     float64
	processValue float64
}

// NewFeedbackController constructs a controller with zeroed state.
func NewFeedbackController(kp, ki, integralLimit float64) *FeedbackController {
	return &FeedbackController{Kp: kp, Ki: ki, IntegralLimit: integralLimit}
}

// Step advances the controller by one control interval and returns the process value.
func (c *FeedbackController) Step(target, observed float64) float64 {
	c.processValue += c.output(target, observed)
	return c.processValue
}

func (c *FeedbackController) output(target, observed float64) float64 {
	err := target - observed
	c.integral += err
	if c.IntegralLimit > 0 {
		if c.integral > c.IntegralLimit {
			c.integral = c.IntegralLimit
		} else if c.integral < -c.IntegralLimit {
			c.integral = -c.IntegralLimit
		}
	}
	return c.Kp*err + c.Ki*c.integral
}

// ProcessValue returns the accumulated output.
func (c *FeedbackController) ProcessValue() float64 { return c.processValue }

// Integral returns the current integral term.
func (c *FeedbackController) Integral() float64 { return c.integral }
